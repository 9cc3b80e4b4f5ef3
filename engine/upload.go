package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gammadia/fleet/config"
	"github.com/samber/lo"
)

type uploadFileParams struct {
	Path           string `mapstructure:"path" validate:"required"`
	Data           string `mapstructure:"data"`
	Permissions    string `mapstructure:"permissions"`
	DirPermissions string `mapstructure:"dir_permissions"`
	UserOwner      string `mapstructure:"user_owner"`
	GroupOwner     string `mapstructure:"group_owner"`
	Overwrite      bool   `mapstructure:"overwrite"`
	Timeout        int    `mapstructure:"timeout" validate:"gte=0"`
}

func uploadTimeout(cfg config.Config) time.Duration { return cfg.UploadTimeout }

// upload_file writes one file synchronously during Run.
func uploadFileKind() kind {
	return define(uploadFileParams{Overwrite: true}, uploadTimeout, func(env Env, params uploadFileParams) Engine {
		return &uploadFile{env: env, file: File{
			Path:           params.Path,
			Data:           params.Data,
			Permissions:    params.Permissions,
			DirPermissions: params.DirPermissions,
			UserOwner:      params.UserOwner,
			GroupOwner:     params.GroupOwner,
			Overwrite:      params.Overwrite,
		}}
	})
}

type uploadFile struct {
	env    Env
	file   File
	status Status
}

func (u *uploadFile) Run(ctx context.Context) error {
	u.status = StatusRunning
	if err := upload(ctx, u.env.Client, u.env.Node, u.file, false, u.env.Config.UploadTimeout); err != nil {
		u.status = StatusFailed
		return err
	}
	u.status = StatusSuccessful
	return nil
}

func (u *uploadFile) Status(context.Context) Status { return u.status }

func (u *uploadFile) Summary(context.Context) (map[string]any, error) {
	return map[string]any{"path": u.file.Path}, nil
}

type uploadFilesParams struct {
	Files   []File `mapstructure:"files" validate:"required,min=1,dive"`
	Timeout int    `mapstructure:"timeout" validate:"gte=0"`
}

// upload_files writes many files from a background worker, compressing their content.
func uploadFilesKind() kind {
	return define(uploadFilesParams{}, uploadTimeout, func(env Env, params uploadFilesParams) Engine {
		return &uploadFiles{env: env, files: params.Files}
	})
}

type copyFilesParams struct {
	Files          []File `mapstructure:"files" validate:"required,min=1,dive"`
	Permissions    string `mapstructure:"permissions"`
	DirPermissions string `mapstructure:"dir_permissions"`
	Timeout        int    `mapstructure:"timeout" validate:"gte=0"`
}

// copy_files reads local files and uploads them to the node.
func copyFilesKind() kind {
	return define(copyFilesParams{}, uploadTimeout, func(env Env, params copyFilesParams) Engine {
		files := lo.Map(params.Files, func(file File, _ int) File {
			file.Permissions = lo.Ternary(file.Permissions != "", file.Permissions, params.Permissions)
			file.DirPermissions = lo.Ternary(file.DirPermissions != "", file.DirPermissions, params.DirPermissions)
			file.Overwrite = true
			return file
		})
		return &uploadFiles{env: env, files: files, readSources: true}
	})
}

type uploadFiles struct {
	env         Env
	files       []File
	readSources bool
	background
}

func (u *uploadFiles) Run(ctx context.Context) error {
	u.start(ctx, func(ctx context.Context) (map[string]any, error) {
		uploaded := make([]string, 0, len(u.files))
		for _, file := range u.files {
			if u.readSources {
				content, err := os.ReadFile(file.Source)
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", file.Source, err)
				}
				file.Data = string(content)
			}
			if err := upload(ctx, u.env.Client, u.env.Node, file, true, u.env.Config.UploadTimeout); err != nil {
				return nil, err
			}
			uploaded = append(uploaded, file.Path)
			u.env.Log.Debug("File uploaded", "path", file.Path)
		}
		return map[string]any{"uploaded": uploaded}, nil
	})
	return nil
}

func (u *uploadFiles) Status(context.Context) Status {
	status := u.status()
	if status == StatusFailed {
		u.env.Log.Error("Upload failed", "error", u.err())
	}
	return status
}

func (u *uploadFiles) Summary(context.Context) (map[string]any, error) {
	return u.summary(), nil
}
