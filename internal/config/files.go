package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tribune/internal/pkg/symbol"
)

type sectorFile struct {
	Default string              `yaml:"default"`
	Sectors map[string][]string `yaml:"sectors"`
}

// LoadSectorsFile 解析行业映射文件：
//
//	default: Unknown
//	sectors:
//	  Technology: [AAPL, MSFT]
func LoadSectorsFile(path string) (map[string]string, string, error) {
	var doc sectorFile
	if err := decodeStrictYAML(path, &doc); err != nil {
		return nil, "", err
	}
	out := make(map[string]string)
	for sector, symbols := range doc.Sectors {
		sector = strings.TrimSpace(sector)
		for _, sym := range symbols {
			key := symbol.Key(sym)
			if key == "" {
				continue
			}
			if prev, dup := out[key]; dup && prev != sector {
				return nil, "", fmt.Errorf("symbol %s assigned to both %s and %s", key, prev, sector)
			}
			out[key] = sector
		}
	}
	return out, strings.TrimSpace(doc.Default), nil
}

type restrictedFile struct {
	Symbols []string `yaml:"symbols"`
}

// LoadRestrictedFile 解析限制交易名单。
func LoadRestrictedFile(path string) ([]string, error) {
	var doc restrictedFile
	if err := decodeStrictYAML(path, &doc); err != nil {
		return nil, err
	}
	return upperList(doc.Symbols), nil
}

func decodeStrictYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s failed: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s failed: %w", path, err)
	}
	return nil
}

// ApplyReferenceFiles 把 sectors_file / restricted_file 的内容合并进配置。
func (c *Config) ApplyReferenceFiles() error {
	if path := strings.TrimSpace(c.Market.SectorsFile); path != "" {
		sectors, def, err := LoadSectorsFile(path)
		if err != nil {
			return err
		}
		if c.Market.Sectors == nil {
			c.Market.Sectors = make(map[string]string, len(sectors))
		}
		for sym, sector := range sectors {
			if _, ok := c.Market.Sectors[sym]; !ok {
				c.Market.Sectors[sym] = sector
			}
		}
		if def != "" {
			c.Market.DefaultSector = def
		}
	}
	if path := strings.TrimSpace(c.Compliance.RestrictedFile); path != "" {
		list, err := LoadRestrictedFile(path)
		if err != nil {
			return err
		}
		c.Compliance.RestrictedSymbols = upperList(append(c.Compliance.RestrictedSymbols, list...))
	}
	return nil
}
