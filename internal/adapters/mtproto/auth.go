package mtproto

import (
	"context"
	"strings"
	"syscall"

	"telegram-postbot/internal/infra/pr"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// terminalAuth реализует auth.UserAuthenticator: номер известен из
// конфигурации, код и пароль 2FA запрашиваются в консоли при первом входе.
type terminalAuth struct {
	phone string
}

func (a terminalAuth) Phone(_ context.Context) (string, error) {
	return a.phone, nil
}

func (a terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	pr.SetPrompt("Код из Telegram: ")
	line, err := pr.Rl().Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Password читает пароль 2FA без эха.
func (a terminalAuth) Password(_ context.Context) (string, error) {
	pr.Print("Пароль 2FA: ")
	raw, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (a terminalAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	pr.Printf("Условия использования Telegram:\n%s\n", tos.Text)
	pr.SetPrompt("Принять? (y/n): ")
	line, err := pr.Rl().Readline()
	if err != nil {
		return err
	}
	if answer := strings.TrimSpace(line); answer != "y" && answer != "Y" {
		return errors.New("terms of service rejected")
	}
	return nil
}

// SignUp не поддерживается: аккаунт публикатора должен существовать заранее.
func (a terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported, register the account first")
}
