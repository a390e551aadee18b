// Package password はargon2idによるパスワードのハッシュ化と検証を提供する。
//
// ハッシュ計算はCPUバウンドであり、リクエストディスパッチと同じ実行文脈を
// 塞がないよう、CPUコア数を上限とするセマフォの下で実行する。parallelism
// は1回の計算が消費するCPU量を制御し、プールサイズの制御ではない。
package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	algorithmID = "argon2id"

	saltLength = 16
	keyLength  = 32
)

// ErrTimeout はハッシュ計算がコンテキストの期限内に開始できなかった場合の
// エラー。呼び出し側はリトライ可能な一時的失敗として扱う。
var ErrTimeout = errors.New("password hashing timed out")

// Config はハッシュ計算のワークファクタ設定。
type Config struct {
	Memory uint32 // KiB
	Time   uint32
}

// Gate はパスワードのハッシュ化・検証を行う。
// 同時に実行できる計算数はCPUコア数で制限される。
type Gate struct {
	config Config
	sem    *semaphore.Weighted
}

// NewGate はGateを生成する。ワークファクタが低すぎる設定は拒否する。
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Memory < 8*1024 {
		return nil, errors.New("argon2 memory must be >= 8192 KiB")
	}
	if cfg.Time < 1 {
		return nil, errors.New("argon2 time must be >= 1")
	}
	return &Gate{
		config: cfg,
		sem:    semaphore.NewWeighted(int64(runtime.NumCPU())),
	}, nil
}

// Hash は平文パスワードをargon2idでハッシュ化し、PHC形式で返す。
// parallelismは明示指定が必須で、1以上かつCPUコア数以下でなければならない
// （テスト下で挙動を再現可能にするため、暗黙のデフォルトは持たない）。
// コンテキストの期限内に計算を開始できない場合はErrTimeoutを返す。
func (g *Gate) Hash(ctx context.Context, plaintext string, parallelism uint8) (string, error) {
	if err := validateParallelism(parallelism); err != nil {
		return "", err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer g.sem.Release(1)

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(plaintext), salt, g.config.Time, g.config.Memory, parallelism, keyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		g.config.Memory,
		g.config.Time,
		parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify は平文パスワードがPHC形式のハッシュと一致するか検証する。
// 計算パラメータはハッシュ文字列に埋め込まれた値を使う（別のパラメータで
// 再計算しても一致しないため）。parallelismは境界検証のみに使う。
// 比較は定数時間で行う。
func (g *Gate) Verify(ctx context.Context, encodedHash, plaintext string, parallelism uint8) (bool, error) {
	if err := validateParallelism(parallelism); err != nil {
		return false, err
	}

	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer g.sem.Release(1)

	computed := argon2.IDKey([]byte(plaintext), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// validateParallelism はparallelismが1以上CPUコア数以下であることを確認する。
func validateParallelism(p uint8) error {
	if p < 1 {
		return errors.New("parallelism must be >= 1")
	}
	if int(p) > runtime.NumCPU() {
		return fmt.Errorf("parallelism %d exceeds available CPU cores %d", p, runtime.NumCPU())
	}
	return nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// parsePHC は $argon2id$v=19$m=...,t=...,p=...$salt$hash 形式を分解する。
func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid password hash format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported password hash algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	parsed := &parsedPHC{}
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid password hash parameters")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, errors.New("invalid memory parameter")
			}
			parsed.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, errors.New("invalid time parameter")
			}
			parsed.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil {
				return nil, errors.New("invalid parallelism parameter")
			}
			parsed.parallelism = uint8(v)
		default:
			return nil, errors.New("unknown password hash parameter")
		}
	}
	if parsed.memory == 0 || parsed.time == 0 || parsed.parallelism == 0 {
		return nil, errors.New("incomplete password hash parameters")
	}

	parsed.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	parsed.hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(parsed.hash) == 0 {
		return nil, errors.New("empty password hash")
	}

	return parsed, nil
}
