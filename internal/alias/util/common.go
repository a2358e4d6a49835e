package util

import (
	"io"
	"log/slog"
)

func CloseFileFunc(f io.Closer) {
	err := f.Close()
	if err != nil {
		slog.Error("close file", "err", err)
	}
}
