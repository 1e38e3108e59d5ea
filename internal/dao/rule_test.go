package dao

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"alertflow/internal/model/entity"
)

func ruleEntityFixture(id string, now time.Time) *entity.AlertRule {
	return &entity.AlertRule{
		ID:                   id,
		UserID:               "u1",
		Symbol:               "BTC-USDT",
		IsActive:             true,
		CheckIntervalMinutes: 5,
		LastCheckedAt:        &now,
		NextCheckAt:          now.Add(5 * time.Minute),
	}
}

func newMockRuleDao(t *testing.T) (RuleDao, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewRuleDaoWith(gdb), mock
}

// FetchReady 的到期、未过期、租约空闲必须合并在同一个 WHERE 里，
// 过期时间哪怕只过去一秒也不能被查出来
func TestFetchReadyQueryFiltersExpiryAndLease(t *testing.T) {
	d, mock := newMockRuleDao(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pattern := "SELECT .* WHERE is_active = \\? AND next_check_at <= \\? AND " +
		regexp.QuoteMeta("(expires_at IS NULL OR expires_at > ?)") + " AND " +
		regexp.QuoteMeta("(claimed_until IS NULL OR claimed_until < ?)") + ".*" +
		regexp.QuoteMeta("FIELD(priority, 'urgent', 'high', 'medium', 'low')") + ".*" +
		"next_check_at ASC"
	mock.ExpectQuery(pattern).WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "symbol", "priority", "is_active", "check_interval_minutes", "next_check_at", "triggered_count"}).
			AddRow("r1", "u1", "BTC-USDT", "high", true, 5, now.Add(-time.Minute), int64(0)))

	rules, err := d.FetchReady(context.Background(), now, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].ID != "r1" {
		t.Errorf("rules = %+v, want the single ready rule", rules)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// Claim 必须是条件 UPDATE，租约被占用时零行受影响，恰好一个竞争者成功
func TestClaimConditionalUpdateWinsOnce(t *testing.T) {
	d, mock := newMockRuleDao(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lease := now.Add(5 * time.Minute)

	pattern := "UPDATE .alert_rule. SET .claimed_until.=.* WHERE " +
		regexp.QuoteMeta("(id = ? AND is_active = ?)") + " AND " +
		regexp.QuoteMeta("(claimed_until IS NULL OR claimed_until < ?)")
	mock.ExpectExec(pattern).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(pattern).WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := d.Claim(context.Background(), "r1", now, lease)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Error("first claimer must win the lease")
	}

	claimed, err = d.Claim(context.Background(), "r1", now, lease)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("claim with zero rows affected must report a lost lease")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// Reschedule 写回检查时间时同步清掉租约列
func TestRescheduleReleasesLease(t *testing.T) {
	d, mock := newMockRuleDao(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pattern := "UPDATE .alert_rule. SET .*.claimed_until.=.* WHERE id = \\?"
	mock.ExpectExec(pattern).WillReturnResult(sqlmock.NewResult(0, 1))

	ent := ruleEntityFixture("r1", now)
	if err := d.Reschedule(context.Background(), ent); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSweepExpiredSoftDeletes(t *testing.T) {
	d, mock := newMockRuleDao(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pattern := "UPDATE .alert_rule. SET .deleted_at.=.* WHERE " +
		regexp.QuoteMeta("(expires_at IS NOT NULL AND expires_at <= ?)")
	mock.ExpectExec(pattern).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := d.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("swept = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
