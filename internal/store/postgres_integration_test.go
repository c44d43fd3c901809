// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

//go:build integration

package store_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/prepline/prepline/internal/store"
)

var _ = Describe("Connect", func() {
	var dsn string

	BeforeEach(func() {
		dsn = os.Getenv("DATABASE_URL")
		if dsn == "" {
			Skip("DATABASE_URL not set")
		}
	})

	It("opens a pool and verifies it with a ping", func(ctx context.Context) {
		pool, err := store.Connect(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		Expect(pool.Ping(ctx)).To(Succeed())
	})

	It("fails fast on a malformed connection string", func(ctx context.Context) {
		_, err := store.Connect(ctx, "not-a-dsn")
		Expect(err).To(HaveOccurred())
	})

	It("gives up on an unreachable database", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := store.Connect(ctx, "postgres://nobody@127.0.0.1:1/absent")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Migrator", func() {
	var dsn string

	BeforeEach(func() {
		dsn = os.Getenv("DATABASE_URL")
		if dsn == "" {
			Skip("DATABASE_URL not set")
		}
	})

	It("applies migrations idempotently and reports the version", func() {
		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		defer migrator.Close()

		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Up()).To(Succeed(), "a second Up must be a no-op")

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(version).To(BeNumerically(">", 0))
	})
})
