package tools

// RegisterDefaults registers the standard capability set on the registry.
func RegisterDefaults(reg *Registry, ws *Workspace) error {
	caps := []Capability{
		NewReadFile(ws),
		NewWriteFile(ws),
		NewEditFile(ws),
		NewListDir(ws),
		NewGlob(ws),
		NewGrep(ws),
		NewShell(ws),
	}
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
