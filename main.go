package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
)

// ============================================================================
// Bot
// ============================================================================

const (
	MsgBotStarting         = "Starting %s..."
	MsgInitializing        = "Initializing %s..."
	MsgBotReady            = "%s is ready. (user: %s, took %dms)"
	MsgBotShutdown         = "%s stopped."
	MsgBotSkipReg          = "Skipping command registration (-skip-reg)."
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgBotClientCreateFail = "failed to create client after %d attempts: %w"
	MsgBotClientRetry      = "Client creation attempt %d failed, retrying: %v"
	MsgBotGatewayFail      = "failed to open gateway: %w"
	MsgBotKillingOld       = "Another instance (pid %d) holds the lock, terminating it..."
	MsgBotOldTerminated    = "Previous instance terminated."
	MsgConfigFailedToLoad  = "failed to load config: %v"
	MsgDatabaseInitFail    = "Database initialization failed: %v"
	MsgPIDOpenFail         = "Failed to open PID file: %v"
	MsgPIDLockFail         = "Failed to acquire PID lock: %v"
	MsgDaemonShutdown      = "Shutting down all daemons..."
	MsgGenericError        = "Error: %v"
	MsgPanicFatal          = "\n[FATAL] %s\n"
	BotPIDFile             = ".bot.pid"
)

func main() {
	// 0. Recover from panics (LogFatal uses panic to ensure defers run)
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, MsgPanicFatal, msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	forceReg := flag.Bool("force-reg", false, "Force command registration even when the hash matches")
	flag.Parse()

	// 1. Initialize Logger (handle flags)
	logName := InitLogger(*silent, true)

	// 2. Load configuration
	cfg, err := LoadConfig()
	if err != nil {
		LogFatal(MsgConfigFailedToLoad, err)
	}

	botName := GetProjectName()
	LogInfo(MsgBotStarting, botName)

	// 3. Initialize Database & Logs
	LogInfo(MsgInitializing, filepath.Base(cfg.DatabasePath))
	if logName != "" {
		LogInfo(MsgInitializing, filepath.Base(logName))
	}

	if err := InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		LogFatal(MsgDatabaseInitFail, err)
	}
	defer CloseDatabase()

	// 4. Single-instance guard: exclusive lock on the PID file, replacing a
	// stale or running previous instance.
	f, err := os.OpenFile(BotPIDFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		LogFatal(MsgPIDOpenFail, err)
	}
	defer f.Close()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			LogFatal(MsgPIDLockFail, err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil || oldPid == os.Getpid() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if process, procErr := os.FindProcess(oldPid); procErr == nil {
			LogInfo(MsgBotKillingOld, oldPid)
			_ = process.Signal(syscall.SIGTERM)

			deadline := time.After(5 * time.Second)
			ticker := time.NewTicker(100 * time.Millisecond)
		waitLoop:
			for {
				select {
				case <-ticker.C:
					if process.Signal(syscall.Signal(0)) != nil {
						break waitLoop
					}
				case <-deadline:
					_ = process.Signal(syscall.SIGKILL)
					break waitLoop
				}
			}
			ticker.Stop()
			LogInfo(MsgBotOldTerminated)
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = os.Remove(BotPIDFile)
	}()

	// 5. Run bot (blocks until shutdown signal)
	if err := run(cfg, *silent, *skipReg, *forceReg); err != nil {
		LogFatal(MsgGenericError, err)
	}
}

func run(cfg *Config, silent bool, skipReg bool, forceReg bool) error {
	// 1. Setup global context that responds to shutdown signals
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	SetAppContext(ctx)

	// 2. Create disgo client with retries for network resilience
	var client bot.Client
	var err error
	for i := 1; i <= 5; i++ {
		client, err = CreateClient(ctx, cfg)
		if err == nil {
			break
		}
		if i == 5 {
			return fmt.Errorf(MsgBotClientCreateFail, i, err)
		}
		LogWarn(MsgBotClientRetry, i, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	defer client.Close(ctx)

	// 3. Command Registration
	if !skipReg {
		if err := RegisterCommands(client, cfg.GuildID, forceReg); err != nil {
			LogError(MsgBotRegisterFail, err)
		}
	} else {
		LogInfo(MsgBotSkipReg)
	}

	// 4. Connect to Gateway
	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf(MsgBotGatewayFail, err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	LogInfo(MsgDaemonShutdown)
	ShutdownDaemons(context.Background())

	LogInfo(MsgBotShutdown, GetProjectName())

	return nil
}
