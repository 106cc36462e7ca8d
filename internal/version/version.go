// 包 version：构建期通过 -ldflags 注入的版本信息
package version

// Commit：构建时注入的提交哈希；本地构建为 dev
var Commit = "dev"
