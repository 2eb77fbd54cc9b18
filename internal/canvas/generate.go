package canvas

import "context"

type Invoker interface {
	Invoke(context.Context, Request) (*Result, error)
}
