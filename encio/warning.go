package encio

import (
	"log/slog"
	"os"
)

// Logger is where warnings and debug output go.
// bitcodec will carry on with e.g. schema documents containing keys it does not understand,
// however I don't want to silently put up with things that seem worrying.
var Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
