// Command arbctl - операторская утилита: просмотр и снятие приостановок символов,
// генерация bcrypt хеша для ADMIN_TOKEN_HASH.
//
//	arbctl suspensions list
//	arbctl suspensions clear BTCUSDT
//	arbctl hash-token -token <secret>
//	echo -n <secret> | arbctl hash-token
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"

	"spreadarb/internal/config"
	"spreadarb/internal/models"
	"spreadarb/internal/repository"
	"spreadarb/internal/service"
	"spreadarb/pkg/crypto"
	"spreadarb/pkg/utils"
)

var errUsage = errors.New("usage: arbctl suspensions list | suspensions clear <SYMBOL> | hash-token [-token T] [-cost N]")

// suspensionAdmin - операции над приостановками, доступные оператору
type suspensionAdmin interface {
	GetActive(ctx context.Context) ([]*models.Suspension, error)
	Clear(ctx context.Context, symbol string) error
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, openSuspensions)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arbctl:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// openSuspensions подключается к журналу по DB_* переменным
func openSuspensions(ctx context.Context) (suspensionAdmin, func(), error) {
	dbCfg, err := config.LoadDatabase()
	if err != nil {
		return nil, nil, err
	}
	db, err := repository.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}

	logger := utils.InitLogger(utils.LogConfig{Level: "warn", Format: "console"})
	svc := service.NewSuspensionService(repository.NewSuspensionRepository(db), nil, logger.Logger)
	return svc, func() { db.Close() }, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer,
	open func(ctx context.Context) (suspensionAdmin, func(), error)) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "hash-token":
		return hashToken(args[1:], stdin, stdout)

	case "suspensions":
		if len(args) < 2 {
			return errUsage
		}
		admin, closeFn, err := open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		switch args[1] {
		case "list":
			return listSuspensions(ctx, admin, stdout)
		case "clear":
			if len(args) != 3 || strings.TrimSpace(args[2]) == "" {
				return errUsage
			}
			symbol := strings.ToUpper(strings.TrimSpace(args[2]))
			if err := admin.Clear(ctx, symbol); err != nil {
				return fmt.Errorf("failed to clear %s: %w", symbol, err)
			}
			fmt.Fprintf(stdout, "cleared %s; the engine picks it up on the next cycle\n", symbol)
			return nil
		}
	}

	return errUsage
}

func listSuspensions(ctx context.Context, admin suspensionAdmin, stdout io.Writer) error {
	list, err := admin.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list suspensions: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "no active suspensions")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSINCE\tEXPIRES\tREASON\tTRADE")
	for _, s := range list {
		expires := "manual"
		if s.ExpiresAt != nil {
			expires = s.ExpiresAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Symbol, s.CreatedAt.UTC().Format(time.RFC3339), expires, s.Reason, s.TradeID)
	}
	return tw.Flush()
}

func hashToken(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "operator token; read from stdin when empty")
	cost := fs.Int("cost", crypto.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if *token == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read token: %w", err)
		}
		*token = strings.TrimRight(line, "\r\n")
	}

	hash, err := crypto.HashToken(*token, *cost)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}
