package vm

import (
	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("pocket.vm")
