package execution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
)

type rpcDataError interface {
	Error() string
	ErrorData() interface{}
}

// wrapEVMExecutionError attaches a decoded revert reason when the RPC
// error carries revert data.
func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: reverted: %s", message, reason), err)
	}
	return clierr.Wrap(code, message, err)
}

func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		return decodeRevertData(common.FromHex(data))
	case []byte:
		return decodeRevertData(data)
	default:
		return ""
	}
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return strings.TrimSpace(reason)
	}
	return "custom error " + hexSelector(data[:4])
}

func hexSelector(selector []byte) string {
	return "0x" + common.Bytes2Hex(selector)
}
