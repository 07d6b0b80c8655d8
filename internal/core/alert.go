package core

type AlertStatus string

const (
	AlertUp    AlertStatus = "up"
	AlertAlert AlertStatus = "alert"
	AlertDown  AlertStatus = "down"
)

func (a AlertStatus) Severity() int {
	switch a {
	case AlertDown:
		return 2
	case AlertAlert:
		return 1
	default:
		return 0
	}
}

// MostSevere combines outcomes: down > alert > up.
func MostSevere(statuses ...AlertStatus) AlertStatus {
	worst := AlertUp
	for _, s := range statuses {
		if s.Severity() > worst.Severity() {
			worst = s
		}
	}
	return worst
}

func (a AlertStatus) Ptr() *AlertStatus {
	return &a
}
