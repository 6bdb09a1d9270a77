//go:build !gocv

package imgsrc

// NewMatLibrary reports ErrNoBackend when built without the gocv tag.
func NewMatLibrary() (Library, error) {
	return nil, ErrNoBackend
}
