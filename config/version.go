package config

// 构建期通过 -ldflags 注入
var (
	Version    = "dev"
	CommitHash = ""
)

// BuildString 返回 "版本 (提交)" 形式的构建标识
func BuildString() string {
	if CommitHash == "" {
		return Version
	}
	return Version + " (" + CommitHash + ")"
}

// IsProduction 判断是否为生产构建
func IsProduction() bool {
	return Version == "release" && CommitHash != ""
}

// IsDevelopment 判断是否为开发构建
func IsDevelopment() bool {
	return Version == "dev"
}
