package slices

// Map applies f to each element of slice in order and returns the results.
// A nil slice maps to nil.
func Map[T1, T2 any](slice []T1, f func(T1) T2) []T2 {
	if slice == nil {
		return nil
	}
	rv := make([]T2, len(slice))
	for i, v := range slice {
		rv[i] = f(v)
	}
	return rv
}

// MapWithErr is Map for functions that can fail; the first error aborts the
// traversal.
func MapWithErr[T1, T2 any](slice []T1, f func(T1) (T2, error)) ([]T2, error) {
	if slice == nil {
		return nil, nil
	}
	rv := make([]T2, len(slice))
	for i, v := range slice {
		var err error
		rv[i], err = f(v)
		if err != nil {
			return nil, err
		}
	}
	return rv, nil
}

// Reverse returns a new slice with the elements of s in reverse order.
func Reverse[T any](s []T) []T {
	if s == nil {
		return nil
	}
	rev := make([]T, len(s))
	for i, v := range s {
		rev[len(s)-1-i] = v
	}
	return rev
}
