package convert

import (
	"testing"

	"github.com/Doekse/merossiot-sub004/common"
)

func TestTimeToMinutes(t *testing.T) {
	got, err := TimeToMinutes("14:30")
	if err != nil || got != 870 {
		t.Fatalf("TimeToMinutes(14:30) = (%d, %v), want (870, nil)", got, err)
	}
	if got := MinutesToTime(870); got != "14:30" {
		t.Fatalf("MinutesToTime(870) = %q, want 14:30", got)
	}
	if _, err := TimeToMinutes("24:00"); common.KindOf(err) != common.KindValidation {
		t.Fatalf("TimeToMinutes(24:00) error kind = %v, want VALIDATION", common.KindOf(err))
	}
}

func TestDaysToWeekMask(t *testing.T) {
	got, err := DaysToWeekMask([]string{"monday", "friday"}, true)
	if err != nil || got != 145 {
		t.Fatalf("DaysToWeekMask(repeat=true) = (%d, %v), want (145, nil)", got, err)
	}
	got, err = DaysToWeekMask([]string{"monday", "friday"}, false)
	if err != nil || got != 17 {
		t.Fatalf("DaysToWeekMask(repeat=false) = (%d, %v), want (17, nil)", got, err)
	}
}

func TestWeekMaskToDays_RoundTrip(t *testing.T) {
	days, repeat := WeekMaskToDays(145)
	if !repeat {
		t.Fatal("expected repeat flag set")
	}
	mask, err := DaysToWeekMask(days, repeat)
	if err != nil || mask != 145 {
		t.Fatalf("round trip mask = (%d, %v), want (145, nil)", mask, err)
	}
}

func TestRGBPacking(t *testing.T) {
	if got := RGBToInt([3]int{255, 0, 0}); got != 16711680 {
		t.Fatalf("RGBToInt(255,0,0) = %d, want 16711680", got)
	}
	if got := IntToRGB(65280); got != [3]int{0, 255, 0} {
		t.Fatalf("IntToRGB(65280) = %v, want [0 255 0]", got)
	}
}
