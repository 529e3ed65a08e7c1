package nodes

// BuiltinProvider registers the atomic node types that ship with the
// engine (spec.md §4.2). It is one of the provider namespaces Discover
// walks at init; callers that add custom node types supply additional
// Providers alongside it.
var BuiltinProvider = ProviderFunc(func(r *Registry) error {
	types := map[string]Constructor{
		"Code":             NewCode,
		"LLMChat":          NewLLMChat,
		"ReadState":        NewReadState,
		"WriteState":       NewWriteState,
		"IncrementCounter": NewIncrementCounter,
		"Map":              NewMap,
		"Filter":           NewFilter,
		"Merge":            NewMerge,
		"Split":            NewSplit,
	}
	for name, ctor := range types {
		if err := r.RegisterType(name, ctor, false); err != nil {
			return err
		}
	}
	return nil
})
