package main

import (
	"fmt"
	"strings"

	"github.com/3rs4lg4d0/eventpipe/internal/config"
	"github.com/3rs4lg4d0/eventpipe/permission"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions <user-id>",
	Short: "Print the cached permissions of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		defer client.Close()

		// stdout carries the permissions only.
		logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		provider := permission.NewProvider(client, permission.EmptySource{}, cfg.Redis.PermissionsTTL)
		provider.SetLogger(logger)

		perms, err := provider.ForUser(cmd.Context(), userId)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(permission.Sorted(perms), "\n"))
		return nil
	},
}
