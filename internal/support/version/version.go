// Пакет version содержит сведения о сборке приложения.
package version

// Name и Version подставляются при сборке через -ldflags "-X ...".
// Значения по умолчанию соответствуют локальной сборке из исходников.
var (
	Name    = "postbot"
	Version = "dev"
)
