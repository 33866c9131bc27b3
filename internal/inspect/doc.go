/*
Package inspect decodes worker value descriptions into results and expands
them lazily.

A description is decoded into exactly one of four variants:

	*Value          a value with shape metadata; may have children and attributes
	*Error          the expression raised an error, or the description was malformed
	*Promise        a binding whose expression has not been forced
	*ActiveBinding  a binding whose reads run interpreter code

Consumers switch on the concrete type:

	switch r := result.(type) {
	case *inspect.Value:
		kids, err := r.Children(ctx)
	case *inspect.Error:
		render(r.ErrorText)
	case *inspect.Promise:
	case *inspect.ActiveBinding:
	}

HasChildren and HasAttributes are computed at decode time from the counts
the worker reported, so deciding whether to offer expansion never costs a
round trip. Children is memoized per Value.
*/
package inspect
