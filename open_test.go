package pakfs

import (
	"errors"
	"io/fs"
	"os"
	"testing"

	"github.com/mwantia/pakfs/data"
)

func TestWrapOSError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected []error
	}{
		{"not-exist", fs.ErrNotExist, []error{data.ErrNotExist}},
		{"permission", fs.ErrPermission, []error{data.ErrPermission, data.ErrAccessDenied}},
		{"closed", fs.ErrClosed, []error{data.ErrClosed}},
		{"other", errors.New("disk on fire"), []error{data.ErrIO}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(tst *testing.T) {
			err := wrapOSError(&os.PathError{Op: "open", Path: "cfg/a.txt", Err: tt.err})
			for _, expected := range tt.expected {
				if !errors.Is(err, expected) {
					tst.Fatalf("expected %v, got %v", expected, err)
				}
			}
		})
	}
}
