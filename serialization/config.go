package serialization

// Config holds archive parameters. The block size is part of the wire
// format and cannot be configured.
type Config struct {
	CompressionLevel int  // lz4 hc level 1..9, default 9
	Debug            bool // per block stats on save, corrupt buffer dumps on load
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CompressionLevel: 9,
	}
}

// OrDefault returns DefaultConfig if c is nil, otherwise normalizes c.
func (c *Config) OrDefault() *Config {
	if c == nil {
		return DefaultConfig()
	}
	if c.CompressionLevel <= 0 || c.CompressionLevel > 9 {
		c.CompressionLevel = 9
	}
	return c
}
