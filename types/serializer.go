package types

// Serializer is implemented by types that flatten themselves into a fixed
// sequence of elements, typically field elements fed to a hash or a circuit
// witness.
type Serializer[T any] interface {
	Serialize() []T
}
