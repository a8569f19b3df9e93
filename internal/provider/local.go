package provider

import "context"

// Local is the no-network provider: state already lives in the local
// database, so a "sync" has nothing left to do and always succeeds.
type Local struct{}

func (Local) Name() string { return "local" }

func (Local) Send(context.Context, []byte) error { return nil }

func (Local) Ping(context.Context) error { return nil }
