package httpapi

import "github.com/Doekse/merossiot-sub004/common"

// statusKind maps a vendor apiStatus code to an ErrorKind, per spec §4.2.
func statusKind(apiStatus int) common.ErrorKind {
	switch {
	case apiStatus >= 1000 && apiStatus <= 1008:
		return common.KindAuthentication
	case apiStatus == 1019 || apiStatus == 1022 || apiStatus == 1200:
		return common.KindTokenExpired
	case apiStatus == 1032:
		return common.KindMFAWrong
	case apiStatus == 1033:
		return common.KindMFARequired
	case apiStatus == 1028:
		return common.KindRateLimit
	case apiStatus == 1035:
		return common.KindOperationLocked
	case apiStatus == 1042:
		return common.KindAPILimitReached
	case apiStatus == 1043:
		return common.KindResourceDenied
	case apiStatus == 1301:
		return common.KindTooManyTokens
	case apiStatus == 20101:
		return common.KindValidation
	case apiStatus == 20106:
		return common.KindNotFound
	case apiStatus == 20112:
		return common.KindUnsupported
	default:
		return common.KindHTTPAPIError
	}
}
