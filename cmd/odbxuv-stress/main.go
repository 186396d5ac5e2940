package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	odbxuv "github.com/Theintercooler/OpenDBX-uv-lua"
	"github.com/Theintercooler/OpenDBX-uv-lua/luabind"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger forwards gorm statements to zap at debug level.
type GormLogger struct {
	log *zap.Logger
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.log.Sugar().Infof(msg, data...)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.log.Sugar().Warnf(msg, data...)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.log.Sugar().Errorf(msg, data...)
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", time.Since(begin)),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.log.Warn("seed statement failed", append(fields, zap.Error(err))...)
		return
	}
	l.log.Debug("seed statement", fields...)
}

// Record is the fixture table the workers read and append to.
type Record struct {
	ID        uint   `gorm:"primarykey"`
	CreatedAt string
	UpdatedAt string
	Name      string `gorm:"index"`
	Value     int
	Data      string
}

// Stats is updated from script callbacks and read by the reporter.
type Stats struct {
	Connects atomic.Int64
	Escapes  atomic.Int64
	Inserts  atomic.Int64
	Selects  atomic.Int64
	Rows     atomic.Int64
	Closes   atomic.Int64
	Errors   atomic.Int64
}

func (s *Stats) counter(name string) *atomic.Int64 {
	switch name {
	case "connects":
		return &s.Connects
	case "escapes":
		return &s.Escapes
	case "inserts":
		return &s.Inserts
	case "selects":
		return &s.Selects
	case "rows":
		return &s.Rows
	case "closes":
		return &s.Closes
	case "errors":
		return &s.Errors
	default:
		return nil
	}
}

func (s *Stats) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("connects", s.Connects.Load()),
		zap.Int64("escapes", s.Escapes.Load()),
		zap.Int64("inserts", s.Inserts.Load()),
		zap.Int64("selects", s.Selects.Load()),
		zap.Int64("rows", s.Rows.Load()),
		zap.Int64("closes", s.Closes.Load()),
		zap.Int64("errors", s.Errors.Load()),
	}
}

type config struct {
	dbPath     string
	numWorkers int
	iterations int
	rows       int
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func loadConfig() config {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "stress_test.db"
	}
	return config{
		dbPath:     dbPath,
		numWorkers: envInt("NUM_WORKERS", 10),
		iterations: envInt("ITERATIONS", 100),
		rows:       envInt("ROWS", 1000),
	}
}

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	odbxuv.SetLogger(log)

	cfg := loadConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down")
		cancel()
	}()

	var stats Stats
	go statsReporter(ctx, log, &stats)

	if err := run(ctx, cfg, log, &stats); err != nil {
		log.Fatal("stress run failed", zap.Error(err))
	}
	log.Info("stress run finished", stats.fields()...)
}

func statsReporter(ctx context.Context, log *zap.Logger, stats *Stats) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("stats", stats.fields()...)
		}
	}
}

// seed creates the fixture database with gorm.
func seed(cfg config, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.dbPath+"?_busy_timeout=5000"), &gorm.Config{
		Logger: &GormLogger{log: log.Named("gorm")},
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("journal mode: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	now := time.Now().Format(time.RFC3339)
	records := make([]Record, cfg.rows)
	for i := range records {
		records[i] = Record{
			CreatedAt: now,
			UpdatedAt: now,
			Name:      fmt.Sprintf("record_%d", i),
			Value:     rand.Intn(10000),
			Data:      randomString(100),
		}
	}
	if err := db.CreateInBatches(records, 200).Error; err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return db, nil
}

func run(ctx context.Context, cfg config, log *zap.Logger, stats *Stats) error {
	db, err := seed(cfg, log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	var before int64
	if err := db.Model(&Record{}).Count(&before).Error; err != nil {
		return err
	}

	loop := odbxuv.NewLoop(odbxuv.WithLoopLogger(log), odbxuv.WithTaskErrorHandler(func(err error) {
		stats.Errors.Add(1)
		log.Error("uncaught script error", zap.Error(err))
	}))
	L := lua.NewState()
	defer L.Close()
	rt := luabind.New(L, loop, odbxuv.NewAsyncDriver(loop, odbxuv.WithDriverLogger(log)), odbxuv.WithLogger(log))

	abs, err := filepath.Abs(cfg.dbPath)
	if err != nil {
		return err
	}
	L.SetGlobal("DB_DSN", lua.LString("file:"+abs+"?_busy_timeout=5000"))
	L.SetGlobal("NUM_WORKERS", lua.LNumber(cfg.numWorkers))
	L.SetGlobal("ITERATIONS", lua.LNumber(cfg.iterations))
	L.SetGlobal("ROWS", lua.LNumber(cfg.rows))
	L.SetGlobal("stats_add", L.NewFunction(func(L *lua.LState) int {
		c := stats.counter(L.CheckString(1))
		if c == nil {
			L.ArgError(1, "unknown counter")
		}
		c.Add(int64(L.OptInt(2, 1)))
		return 0
	}))

	if err := rt.Exec("stress", workerScript); err != nil {
		return err
	}
	if err := rt.Bridge().Shutdown(ctx); err != nil {
		rt.Bridge().DumpOpenHandles()
		return err
	}

	if got, want := stats.Closes.Load(), int64(cfg.numWorkers); got != want {
		return fmt.Errorf("%d of %d connections closed", got, want)
	}
	var after int64
	if err := db.Model(&Record{}).Count(&after).Error; err != nil {
		return err
	}
	if after != before+stats.Inserts.Load() {
		return fmt.Errorf("row count %d, want %d", after, before+stats.Inserts.Load())
	}
	var result string
	if err := db.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	if n := stats.Errors.Load(); n > 0 {
		return fmt.Errorf("%d errors", n)
	}
	return nil
}

func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// workerScript runs NUM_WORKERS coroutines. Each one connects and performs
// ITERATIONS rounds of escape, insert and select-fetch.
const workerScript = `
local odbx = require("opendbxuv")

local function worker(id)
	local conn = odbx.createHandle()
	local left = ITERATIONS

	local function step()
		if left == 0 then
			odbx.close(conn)
			return
		end
		left = left - 1

		local e = odbx.escape(conn, "lua's record " .. id .. "/" .. left)
		odbx.setHandler(e, "escape", function(name)
			odbx.close(e)
			stats_add("escapes")
			local ins = odbx.query(conn, "INSERT INTO records(created_at, updated_at, name, value, data) VALUES ('', '', '" .. name .. "', " .. math.random(0, 9999) .. ", 'lua')")
			odbx.setHandler(ins, "query", function()
				odbx.close(ins)
				stats_add("inserts")
				local q = odbx.query(conn, "SELECT id, name, value FROM records WHERE value < " .. math.random(0, 9999) .. " LIMIT 10")
				local rows = 0
				odbx.setHandler(q, "query", function() odbx.fetch(q) end)
				odbx.setHandler(q, "row", function() rows = rows + 1 end)
				odbx.setHandler(q, "fetched", function()
					stats_add("selects")
					stats_add("rows", rows)
					odbx.close(q)
					step()
				end)
				odbx.setHandler(q, "error", function()
					stats_add("errors")
					odbx.close(q)
					step()
				end)
			end)
			odbx.setHandler(ins, "error", function()
				stats_add("errors")
				odbx.close(ins)
				step()
			end)
		end)
	end

	odbx.setHandler(conn, "connect", function()
		stats_add("connects")
		step()
	end)
	odbx.setHandler(conn, "error", function()
		stats_add("errors")
		odbx.close(conn)
	end)
	odbx.setHandler(conn, "close", function() stats_add("closes") end)
	odbx.connect(conn, "sqlite3", "", "", DB_DSN, "", "")
	coroutine.yield()
end

for i = 1, NUM_WORKERS do
	assert(coroutine.resume(coroutine.create(worker), i))
end
`
