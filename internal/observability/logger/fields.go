package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar para logs HTTP.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Campos de dominio.

func VaultID(v string) zap.Field { return zap.String("vault_id", v) }

func MemberID(v string) zap.Field { return zap.String("member_id", v) }

func KID(v string) zap.Field { return zap.String("kid", v) }
