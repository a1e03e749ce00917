package global

var (
	CfgFile  string
	NoColor  bool
	NoStyle  bool
	Verbose  bool
	NoNotify bool
)
