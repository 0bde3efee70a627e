//go:build !linux && !(darwin && cgo)

package input

func platformSource(Options) Source {
	return SourceFunc(func(Handler) (Subscription, error) {
		return nil, ErrUnsupported
	})
}
