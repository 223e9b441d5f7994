package portalloc

func systemSource() Source {
	return procSource{dir: "/proc/net"}
}
