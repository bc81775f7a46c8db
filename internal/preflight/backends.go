package preflight

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// CheckPostgres connects with the configured DSN and pings the server, so
// bad credentials or a missing database fail the check.
func CheckPostgres(ctx context.Context, name, dsn string) Result {
	if strings.TrimSpace(dsn) == "" {
		return Result{Name: name, Detail: "missing database url"}
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid database url (%v)", err)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	conn, err := pgx.ConnectConfig(checkCtx, cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("connect failed (%v)", err)}
	}
	defer conn.Close(context.Background())
	if err := conn.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("ping failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)}
}

// CheckRabbitMQ completes an AMQP handshake, which authenticates against
// the vhost in url.
func CheckRabbitMQ(ctx context.Context, name, url string) Result {
	if strings.TrimSpace(url) == "" {
		return Result{Name: name, Detail: "missing queue url"}
	}
	uri, err := amqp.ParseURI(url)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid queue url (%v)", err)}
	}

	dialer := &net.Dialer{Timeout: checkTimeout}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial: func(network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := conn.SetDeadline(time.Now().Add(checkTimeout)); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("connect failed (%v)", err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s:%d vhost %s", uri.Host, uri.Port, uri.Vhost)}
}

// CheckRedis pings the server named by url.
func CheckRedis(ctx context.Context, name, url string) Result {
	if strings.TrimSpace(url) == "" {
		return Result{Name: name, Detail: "missing redis url"}
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid redis url (%v)", err)}
	}
	opts.MaxRetries = -1
	opts.DialTimeout = checkTimeout

	client := redis.NewClient(opts)
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("ping failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s db %d", opts.Addr, opts.DB)}
}

// CheckKafka dials broker and asks it for cluster metadata.
func CheckKafka(ctx context.Context, name, broker string) Result {
	broker = strings.TrimSpace(broker)
	if broker == "" {
		return Result{Name: name, Detail: "missing broker address"}
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		broker = net.JoinHostPort(broker, "9092")
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	conn, err := kafka.DialContext(checkCtx, "tcp", broker)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("connect failed (%v)", err)}
	}
	defer conn.Close()
	if deadline, ok := checkCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	brokers, err := conn.Brokers()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("metadata request failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d broker(s))", broker, len(brokers))}
}
