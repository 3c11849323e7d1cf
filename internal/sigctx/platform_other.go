//go:build !unix

package sigctx

// Name returns "" on platforms without a POSIX signal table.
func Name(sig int) string {
	return ""
}
