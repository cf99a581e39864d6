package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/schema"
)

// zstd.Encoder is safe for concurrent use with EncodeAll.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
}

// compress packs data in format c. LZ4 uses the frame format, which records its own length.
func compress(c schema.Compression, data []byte) ([]byte, error) {
	switch c {
	case schema.None:
		return data, nil
	case schema.Zstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case schema.LZ4:
		var out bytes.Buffer
		w := lz4.NewWriter(&out)
		if _, err := w.Write(data); err != nil {
			return nil, encio.NewIOError(err, "lz4 compress")
		}
		if err := w.Close(); err != nil {
			return nil, encio.NewIOError(err, "lz4 compress")
		}
		return out.Bytes(), nil
	}
	return nil, encio.NewError(encio.ErrUnsupported, fmt.Sprintf("unknown compression %q", c), "")
}

// decompress unpacks data in format c. Corrupt data is a mismatch.
// Output larger than encio.TooBig is an underflow, as for any other oversized byte source.
func decompress(c schema.Compression, data []byte) ([]byte, error) {
	switch c {
	case schema.None:
		return data, nil
	case schema.Zstd:
		dec, err := zstd.NewReader(bytes.NewReader(data),
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(encio.TooBig)+1),
		)
		if err != nil {
			return nil, encio.NewError(encio.ErrUnsupported, fmt.Sprintf("zstd decoder: %v", err), "")
		}
		defer dec.Close()
		out, err := encio.ReadAll(dec)
		return unpacked("zstd", out, err)
	case schema.LZ4:
		out, err := encio.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		return unpacked("lz4", out, err)
	}
	return nil, encio.NewError(encio.ErrUnsupported, fmt.Sprintf("unknown compression %q", c), "")
}

func unpacked(format string, out []byte, err error) ([]byte, error) {
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, encio.ErrUnderflow):
		return nil, err
	case errors.Is(err, zstd.ErrDecoderSizeExceeded), errors.Is(err, zstd.ErrWindowSizeExceeded):
		return nil, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("%v output is larger than %v bytes", format, encio.TooBig), "")
	}
	return nil, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v decompress: %v", format, err), "")
}
