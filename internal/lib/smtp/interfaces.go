// Package smtp открывает SMTP-сессии для писем уведомлений.
package smtp

import "io"

// Client команды SMTP-сессии, нужные для отправки одного письма.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Connector открывает сессию с почтовым сервером и знает адрес отправителя.
type Connector interface {
	Connect() (Client, error)
	From() string
}
