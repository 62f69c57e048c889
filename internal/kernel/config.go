// Configuration loading via viper, matching the layered
// flags/env/file precedence the teacher's own tooling uses.
package kernel

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LoadConfig builds a Config from flags, environment, and an optional
// config file, in that precedence order.
func LoadConfig(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VMCORE")
	v.AutomaticEnv()
	v.SetDefault("fs_sectors", 16*1024)
	v.SetDefault("swap_sectors", 8*1024)
	v.SetDefault("frame_count", 256)
	v.SetDefault("reserved_lo", 8)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, err
		}
	}
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		FSSectors:   v.GetInt("fs_sectors"),
		SwapSectors: v.GetInt("swap_sectors"),
		FrameCount:  v.GetInt("frame_count"),
		ReservedLo:  v.GetInt("reserved_lo"),
	}, nil
}
