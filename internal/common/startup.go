package common

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	commonconfig "github.com/flotillaproject/flotilla/internal/common/config"
)

// LoadConfig reads the base config file from defaultPath and merges any
// override config files on top, then unmarshals into config.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) error {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "error reading base config from %s", defaultPath)
	}
	log.Infof("Read config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		if strings.TrimSpace(overrideConfig) == "" {
			continue
		}
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return errors.Wrapf(err, "error reading config override from %s", overrideConfig)
		}
		log.Infof("Merged config override %s", v.ConfigFileUsed())
	}

	v.SetEnvPrefix("FLOTILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return errors.Wrap(err, "error unmarshalling config")
	}
	return nil
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}
