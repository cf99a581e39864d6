package bitcodec

import (
	"log/slog"

	"github.com/stewi1014/bitcodec/codec"
	"github.com/stewi1014/bitcodec/encio"
)

// Config defines configuration for building codecs. A nil *Config uses the defaults.
type Config struct {
	// Factories are asked for codecs before the built-in ones, in order.
	Factories []codec.Factory

	// Codecs are used for fields naming them with Field.Codec.
	Codecs map[string]codec.Codec

	// Builder creates record values during decoding.
	// If nil, codec.DefaultBuilder is used, giving *schema.Struct or pointers to the record's Go type.
	Builder codec.Builder

	// Logger receives debug output about builds and failed calls.
	// If nil, encio.Logger is used.
	Logger *slog.Logger
}

func (c *Config) copyAndFill() *Config {
	config := new(Config)
	if c != nil {
		*config = *c
	}

	if config.Builder == nil {
		config.Builder = codec.DefaultBuilder
	}
	if config.Logger == nil {
		config.Logger = encio.Logger
	}

	return config
}
