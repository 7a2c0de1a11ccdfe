package storage

import "umabot/pkg/logx"

var logxNop = logx.Nop()
