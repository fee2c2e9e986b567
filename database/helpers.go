package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates the audit tables if they do not already exist.
func ApplySchema(ctx context.Context, dsn string) error {
	auditPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("unable to connect: %w", err)
	}
	defer auditPool.Close()

	if _, err := auditPool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// ResetDatabase drops and recreates the named database through the
// management connection, then applies the schema through dsn.
func ResetDatabase(ctx context.Context, managementDsn, dsn, name string) error {
	managementPool, err := pgxpool.New(ctx, managementDsn)
	if err != nil {
		return fmt.Errorf("unable to connect: %w", err)
	}
	defer managementPool.Close()

	ident := pgx.Identifier{name}.Sanitize()
	if _, err := managementPool.Exec(ctx, "DROP DATABASE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", name, err)
	}
	if _, err := managementPool.Exec(ctx, "CREATE DATABASE "+ident); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	managementPool.Close()

	return ApplySchema(ctx, dsn)
}
