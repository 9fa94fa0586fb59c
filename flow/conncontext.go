package flow

// ConnContextKey is a context.Context key for a *ConnContext. No code in
// this module stores or reads a value under it; services pass the
// *ConnContext as a parameter.
var ConnContextKey = new(struct{})
