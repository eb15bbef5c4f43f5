package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/config"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/handler"
	"github.com/wneessen/go-mail"
)

type mailKind struct {
	template string
	subject  string
	data     func() any
}

var kinds = map[domain.MailType]mailKind{
	domain.MailCreateAgent: {
		template: "create_agent_email.html",
		subject:  "Lead Distributor - your agent account",
		data:     func() any { return &domain.CreateAgentMailData{} },
	},
	domain.MailAssignmentsReady: {
		template: "assignments_ready_email.html",
		subject:  "Lead Distributor - new leads assigned",
		data:     func() any { return &domain.AssignmentsReadyMailData{} },
	},
}

// queued is domain.MailMessage with the payload left raw until the type is known.
type queued struct {
	Type domain.MailType `json:"type"`
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

func main() {
	/**********************************************
	 * logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * config
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return
	}

	templates := make(map[domain.MailType]*template.Template, len(kinds))
	for t, kind := range kinds {
		tmpl, err := template.ParseFiles(filepath.Join(cfg.Email.TemplateDir, kind.template))
		if err != nil {
			logger.Error("failed to parse mail template", slog.String("template", kind.template), slog.String("error", err.Error()))
			return
		}
		templates[t] = tmpl
	}

	/**********************************************
	 * smtp client
	 **********************************************/
	client, err := mail.NewClient(cfg.Email.SMTP.Host,
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithSSL(),
		mail.WithPort(cfg.Email.SMTP.Port),
		mail.WithUsername(cfg.Email.SMTP.Username),
		mail.WithPassword(cfg.Email.SMTP.Password),
	)
	if err != nil {
		logger.Error("failed to create mail client", slog.String("error", err.Error()))
		return
	}

	dialCtx, cancelDial := context.WithTimeout(context.Background(), time.Duration(cfg.Email.SMTP.DialTimeout)*time.Second)
	defer cancelDial()
	if err := checkSMTP(dialCtx, client); err != nil {
		logger.Error("failed to reach mail server", slog.String("error", err.Error()))
		return
	}

	/**********************************************
	 * rabbitmq
	 **********************************************/
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("failed to open channel", slog.String("error", err.Error()))
		return
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		handler.MailQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		logger.Error("failed to declare queue", slog.String("error", err.Error()))
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgs, err := ch.Consume(
		q.Name,
		"",    // broker-assigned consumer tag
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Error("failed to consume queue", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Error("delivery channel closed")
					return
				}

				m, err := buildMessage(cfg.Email.SMTP.Username, templates, msg.Body)
				if err != nil {
					logger.Error("dropping mail", slog.String("error", err.Error()))
					_ = msg.Nack(false, false)
					continue
				}

				if err := client.DialAndSendWithContext(ctx, m); err != nil {
					logger.Error("failed to send mail", slog.String("error", err.Error()))
					_ = msg.Nack(false, true) // requeue
					continue
				}

				logger.Info("mail sent", slog.String("to", m.GetToString()[0]))
				_ = msg.Ack(false)
			}
		}
	}()

	logger.Info("waiting for mail messages, press CTRL+C to exit")
	<-sigChan

	logger.Info("shutting down mail worker")
	cancel()
	wg.Wait()
	logger.Info("mail worker stopped")
}

// checkSMTP dials and authenticates once, then quits. Every send opens its own session.
func checkSMTP(ctx context.Context, client *mail.Client) error {
	session, err := client.DialToSMTPClientWithContext(ctx)
	if err != nil {
		return err
	}
	return client.CloseWithSMTPClient(session)
}

// buildMessage turns a queued payload into a rendered mail. Errors are permanent.
func buildMessage(from string, templates map[domain.MailType]*template.Template, body []byte) (*mail.Msg, error) {
	var q queued
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	kind, ok := kinds[q.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported mail type %q", q.Type)
	}

	data := kind.data()
	if err := json.Unmarshal(q.Data, data); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", q.Type, err)
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(q.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(kind.subject)
	if err := m.SetBodyHTMLTemplate(templates[q.Type], data); err != nil {
		return nil, fmt.Errorf("render %s: %w", q.Type, err)
	}

	return m, nil
}
