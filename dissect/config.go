package dissect

import (
	"sync"

	"github.com/spf13/viper"
)

var (
	transfersOnce sync.Once
	transfersRoot string
)

// TransfersRoot returns the directory under which sessions store extracted
// files, from the TRANSFERS environment variable. Read once and fixed for
// the life of the process.
func TransfersRoot() string {
	transfersOnce.Do(func() {
		v := viper.New()
		v.SetDefault("transfers", "transfers")
		v.BindEnv("transfers", "TRANSFERS")
		transfersRoot = v.GetString("transfers")
	})
	return transfersRoot
}
