// Package ptrs is a tiny helper for taking the address of values.
package ptrs

// Ptr returns a pointer to a copy of the value. It exists so non-addressable
// values, like literals, can populate pointer-typed SDK fields inline:
//
//	input := &sagemaker.CreateEndpointInput{EndpointName: ptrs.Ptr("name")}
func Ptr[T any](t T) *T {
	x := t
	return &x
}
