package system

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewCLILogger builds the logger used by mlaasctl. Logs go to w (stderr when
// nil) so that stdout stays reserved for command output. Warnings and errors
// are always shown; verbose lowers the level to debug.
func NewCLILogger(w io.Writer, verbose bool) *zap.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	if !verbose {
		encCfg.CallerKey = zapcore.OmitKey
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	opts := []zap.Option{}
	if verbose {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

// Fingerprint returns a short, non-reversible identifier for a secret so it
// can be correlated across log lines without being exposed.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return "sha256:" + hex.EncodeToString(sum[:])[:12]
}

// TokenFields returns key/value pairs suitable for SugaredLogger.With that
// identify a token by fingerprint only.
func TokenFields(token string) []interface{} {
	return []interface{}{"token", Fingerprint(token)}
}
