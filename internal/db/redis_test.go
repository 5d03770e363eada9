package db_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"smar/scraper-service/internal/db"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := db.NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := db.NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Error("NewRedisClient(bad url) expected error, got nil")
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := db.NewRedisClient(context.Background(), "redis://"+addr+"/0"); err == nil {
		t.Error("NewRedisClient(unreachable) expected error, got nil")
	}
}
