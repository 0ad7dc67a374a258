package sqpack

import (
	"context"
	"errors"
	"io"

	"github.com/meigma/sqpack/zipatch"
)

var _ zipatch.Target = (*Archive)(nil)

// ApplyPatch applies a ZiPatch stream to the archive's files, then reloads
// the archive whether or not the patch succeeded.
//
// Chunks are applied in order. A failure stops the patch and leaves every
// earlier chunk applied; the returned error is a *zipatch.ApplyError
// describing how far the patch got. The archive's logger is used unless
// opts supply another.
func (a *Archive) ApplyPatch(ctx context.Context, r io.Reader, opts ...zipatch.Option) (*zipatch.Result, error) {
	if a.logger != nil {
		opts = append([]zipatch.Option{zipatch.WithLogger(a.logger)}, opts...)
	}
	res, err := zipatch.Apply(ctx, r, a, opts...)
	if rerr := a.Reload(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return res, err
}
