package fl

import "github.com/fxamacker/cbor/v2"

// EncOptions encodes float64 values as they are, NaN payloads included, so
// a ParameterSet crosses the wire and the disk bit for bit.
func EncOptions() cbor.EncOptions {
	return cbor.EncOptions{NaNConvert: cbor.NaNConvertNone}
}

var encMode = func() cbor.EncMode {
	em, err := EncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	return em
}()

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}
