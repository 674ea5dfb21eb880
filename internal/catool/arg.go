package catool

// Arg is one argument to the CA tool. It is either Text, passed through
// verbatim, or Binary, written to a temporary file whose path is passed in its
// place.
type Arg interface {
	isArg()
}

// Text is an argument passed to the process unchanged.
type Text string

// Binary is raw content the tool reads from a file, such as a CSR.
type Binary []byte

func (Text) isArg()   {}
func (Binary) isArg() {}

// Args converts plain strings into Text arguments.
func Args(values ...string) []Arg {
	out := make([]Arg, len(values))
	for i, v := range values {
		out[i] = Text(v)
	}
	return out
}
