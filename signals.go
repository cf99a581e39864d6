package bitcodec

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// Signals emitted by Build, Decode and Encode.
var (
	SignalCodecBuilt     = capitan.NewSignal("bitcodec.codec.built", "Codec built from a record")
	SignalDecodeComplete = capitan.NewSignal("bitcodec.decode.complete", "Decode call finished")
	SignalEncodeComplete = capitan.NewSignal("bitcodec.encode.complete", "Encode call finished")
)

// Keys for typed event data.
var (
	KeyRecord   = capitan.NewStringKey("record")
	KeyBits     = capitan.NewIntKey("bits")
	KeyDuration = capitan.NewDurationKey("duration")
	KeyError    = capitan.NewErrorKey("error")
)

func emitCodecBuilt(ctx context.Context, record string, duration time.Duration, err error) {
	fields := []capitan.Field{
		KeyRecord.Field(record),
		KeyDuration.Field(duration),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalCodecBuilt, fields...)
	} else {
		capitan.Emit(ctx, SignalCodecBuilt, fields...)
	}
}

// completeFields returns the fields of a decode or encode call that covered bits bits of the stream.
func completeFields(record string, bits uint64, duration time.Duration, err error) []capitan.Field {
	fields := []capitan.Field{
		KeyRecord.Field(record),
		KeyBits.Field(int(bits)),
		KeyDuration.Field(duration),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
	}
	return fields
}

func emitDecodeComplete(ctx context.Context, record string, bits uint64, duration time.Duration, err error) {
	fields := completeFields(record, bits, duration, err)
	if err != nil {
		capitan.Error(ctx, SignalDecodeComplete, fields...)
	} else {
		capitan.Emit(ctx, SignalDecodeComplete, fields...)
	}
}

func emitEncodeComplete(ctx context.Context, record string, bits uint64, duration time.Duration, err error) {
	fields := completeFields(record, bits, duration, err)
	if err != nil {
		capitan.Error(ctx, SignalEncodeComplete, fields...)
	} else {
		capitan.Emit(ctx, SignalEncodeComplete, fields...)
	}
}
