package constants

type LanguageType string

const (
	LanguageC      LanguageType = "C"
	LanguageCpp    LanguageType = "C++"
	LanguagePHP    LanguageType = "PHP"
	LanguagePython LanguageType = "Python"
	LanguageJava   LanguageType = "Java"
)

// LanguageByExtension 根据文件后缀推断调试语言
var LanguageByExtension = map[string]LanguageType{
	".c":    LanguageC,
	".cpp":  LanguageCpp,
	".php":  LanguagePHP,
	".py":   LanguagePython,
	".java": LanguageJava,
}
