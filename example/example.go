package example

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm"
	"github.com/xiaoxuxiansheng/gotxrm/config"
	"github.com/xiaoxuxiansheng/gotxrm/example/pkg"
	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/meta"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/xa"
)

const (
	dbUser     = "请输入 mysql 用户名"
	dbPassword = "请输入 mysql 密码"
	dbAddress  = "请输入 mysql ip:port"
	dbName     = "请输入 mysql 库名"
	network    = "tcp"
	address    = "请输入 redis ip:port"
	password   = "请输入 redis 密码"
)

// 在同一个全局事务下分别以 at、xa 模式修改订单，随后整体回滚
func Run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.SetDefaultLogger(log.NewSugarLogger(log.NewOptions(cfg.LogOptions()...)))

	redisClient := pkg.NewRedisClient(network, address, password)
	gdb, err := pkg.NewDB(pkg.BuildDSN(dbUser, dbPassword, dbAddress, dbName))
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return errors.WithStack(err)
	}

	tc := NewMockTCClient(redisClient)
	manager := gotxrm.NewDataSourceManager(cfg.ManagerOptions()...)
	defer manager.Stop()

	metas, err := meta.NewCache(gdb, cfg.MetaOptions(rm.DBTypeMySQL)...)
	if err != nil {
		return err
	}
	defer metas.Close()

	atResource := gotxrm.NewATResource("at:"+dbAddress+"/"+dbName, rm.DBTypeMySQL, gdb, metas, cfg.UndoOptions()...)
	xaResource := xa.NewDataSource(sqlDB, "xa:"+dbAddress+"/"+dbName, rm.DBTypeMySQL, tc,
		append(cfg.XAOptions(), xa.WithBranchStatusStore(xa.NewRedisBranchStatusStore(redisClient)))...)
	defer xaResource.Stop()

	// 完成资源的注册
	if err = manager.RegisterResource(atResource); err != nil {
		return err
	}
	if err = manager.RegisterResource(xaResource); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	xid := uuid.NewString()
	service := NewOrderService(manager, tc, metas, atResource, xaResource)
	if err = service.RenameAT(ctx, xid, 1, "pear"); err != nil {
		log.ErrorContextf(ctx, "at branch of xid: %s failed, err: %v", xid, err)
	}
	if err = service.RenameXA(ctx, xid, 2, "plum"); err != nil {
		log.ErrorContextf(ctx, "xa branch of xid: %s failed, err: %v", xid, err)
	}

	if err = service.Finish(ctx, xid, false); err != nil {
		return err
	}

	log.InfoContextf(ctx, "xid: %s rollbacked", xid)
	return nil
}
